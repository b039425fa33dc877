package crypto

import "testing"

func TestHandshakeDerivesMatchingKeys(t *testing.T) {
	server, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("server keypair: %v", err)
	}
	client, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("client keypair: %v", err)
	}

	serverKeys, err := DeriveSessionKeys(server.Private, client.Public, false)
	if err != nil {
		t.Fatalf("server derive: %v", err)
	}
	clientKeys, err := DeriveSessionKeys(client.Private, server.Public, true)
	if err != nil {
		t.Fatalf("client derive: %v", err)
	}

	plaintext := []byte(`{"type":"ping","nonce":1}`)
	frame, err := clientKeys.Seal(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := serverKeys.Open(frame)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestTamperedFrameFailsToDecrypt(t *testing.T) {
	server, _ := GenerateKeyPair()
	client, _ := GenerateKeyPair()
	serverKeys, _ := DeriveSessionKeys(server.Private, client.Public, false)
	clientKeys, _ := DeriveSessionKeys(client.Private, server.Public, true)

	frame, err := clientKeys.Seal([]byte("hello"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	frame[len(frame)-1] ^= 0xFF // flip a bit in the tag

	if _, err := serverKeys.Open(frame); err == nil {
		t.Fatal("expected decryption failure on tampered frame")
	}
}

func TestNonceRegressionIsFatal(t *testing.T) {
	server, _ := GenerateKeyPair()
	client, _ := GenerateKeyPair()
	serverKeys, _ := DeriveSessionKeys(server.Private, client.Public, false)
	clientKeys, _ := DeriveSessionKeys(client.Private, server.Public, true)

	f1, _ := clientKeys.Seal([]byte("first"))
	f2, _ := clientKeys.Seal([]byte("second"))

	if _, err := serverKeys.Open(f1); err != nil {
		t.Fatalf("open f1: %v", err)
	}
	if _, err := serverKeys.Open(f1); err == nil {
		t.Fatal("expected replay of f1 to fail counter check")
	}
	if _, err := serverKeys.Open(f2); err != nil {
		t.Fatalf("open f2 after recovering sequence: %v", err)
	}
}

func TestDirectionsAreIndependent(t *testing.T) {
	server, _ := GenerateKeyPair()
	client, _ := GenerateKeyPair()
	serverKeys, _ := DeriveSessionKeys(server.Private, client.Public, false)
	clientKeys, _ := DeriveSessionKeys(client.Private, server.Public, true)

	msg, err := serverKeys.Seal([]byte("server says hi"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := clientKeys.Open(msg); err != nil {
		t.Fatalf("client should decrypt server-to-client frame: %v", err)
	}
}

func TestLowOrderPointRejected(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var zeroPub [KeySize]byte // the all-zero public key is a known low-order point
	if _, err := DeriveSessionKeys(kp.Private, zeroPub, true); err != ErrLowOrderPoint {
		t.Fatalf("got %v, want ErrLowOrderPoint", err)
	}
}
