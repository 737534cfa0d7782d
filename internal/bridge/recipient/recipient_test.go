package recipient

import (
	"testing"

	"bridge-backend/internal/bridge"
)

var testAccountHex = "0x" + "112233445566778899aabbccddeeff001122334455"[:30]

func TestDeriveIsDeterministic(t *testing.T) {
	var secret [SecretLen]byte
	for i := range secret {
		secret[i] = byte(i)
	}

	first, err := Derive(testAccountHex, secret)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	second, err := Derive(testAccountHex, secret)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if first != second {
		t.Fatalf("Derive is not deterministic: %x != %x", first, second)
	}
}

func TestDeriveDiffersBySecret(t *testing.T) {
	var secretA, secretB [SecretLen]byte
	secretB[0] = 1

	hashA, err := Derive(testAccountHex, secretA)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	hashB, err := Derive(testAccountHex, secretB)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if hashA == hashB {
		t.Fatalf("distinct secrets produced the same hash")
	}
}

func TestDeriveDiffersByAccount(t *testing.T) {
	var secret [SecretLen]byte
	otherAccount := "0x" + "aabbccddeeff00112233445566778899aabbccdde"[:30]

	hashA, err := Derive(testAccountHex, secret)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	hashB, err := Derive(otherAccount, secret)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if hashA == hashB {
		t.Fatalf("distinct accounts produced the same hash")
	}
}

func TestDeriveBytesRejectsWrongLength(t *testing.T) {
	_, err := DeriveBytes(testAccountHex, []byte{1, 2, 3})
	if err != bridge.ErrMalformedSecret {
		t.Fatalf("got err=%v, want ErrMalformedSecret", err)
	}
}

func TestDeriveBytesMatchesDerive(t *testing.T) {
	var secret [SecretLen]byte
	secret[31] = 7

	viaFixed, err := Derive(testAccountHex, secret)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	viaBytes, err := DeriveBytes(testAccountHex, secret[:])
	if err != nil {
		t.Fatalf("DeriveBytes: %v", err)
	}
	if viaFixed != viaBytes {
		t.Fatalf("DeriveBytes disagrees with Derive")
	}
}

func TestDeriveRejectsMalformedAccountID(t *testing.T) {
	var secret [SecretLen]byte
	_, err := Derive("not-an-account-id", secret)
	if err == nil {
		t.Fatalf("expected error for malformed account id")
	}
}
