package signing

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/nbd-wtf/go-nostr"
)

func DecodeKey(serializedKey string) ([]byte, error) {
	_, bytesToBits, err := bech32.Decode(serializedKey)
	if err != nil {
		return nil, err
	}

	keyBytes, err := bech32.ConvertBits(bytesToBits, 5, 8, false)
	if err != nil {
		return nil, err
	}

	return keyBytes, nil
}

func DeserializePrivateKey(serializedKey string) (*secp256k1.PrivateKey, *secp256k1.PublicKey, error) {
	privateKeyBytes, err := DecodeKey(serializedKey)
	if err != nil {
		return nil, nil, err
	}

	privateKey, publicKey := btcec.PrivKeyFromBytes(privateKeyBytes)

	return privateKey, publicKey, nil
}

func DeserializePublicKey(serializedKey string) (*secp256k1.PublicKey, error) {
	publicKeyBytes, err := DecodeKey(serializedKey)
	if err != nil {
		return nil, err
	}

	publicKey, err := btcec.ParsePubKey(publicKeyBytes)
	if err != nil {
		return nil, err
	}

	return publicKey, nil
}

func TrimPrivateKey(privateKey string) string {
	return strings.TrimPrefix(privateKey, "nsec")
}

func TrimPublicKey(publicKey string) string {
	return strings.TrimPrefix(publicKey, "npub")
}

func SignData(data []byte, privateKey *btcec.PrivateKey) (*schnorr.Signature, error) {
	signature, err := schnorr.Sign(privateKey, data)
	if err != nil {
		return nil, err
	}

	return signature, nil
}

func VerifySignature(signature *schnorr.Signature, data []byte, publicKey *secp256k1.PublicKey) error {
	result := signature.Verify(data, publicKey)
	if !result {
		return fmt.Errorf("data failed to verify")
	}

	return nil
}

// VerifyEvent checks that the event id matches the canonical serialization
// and that the schnorr signature verifies under the x-only pubkey.
func VerifyEvent(event *nostr.Event) error {
	if event.GetID() != event.ID {
		return fmt.Errorf("event id does not match canonical serialization")
	}

	pubkeyBytes, err := hex.DecodeString(event.PubKey)
	if err != nil || len(pubkeyBytes) != 32 {
		return fmt.Errorf("invalid pubkey hex")
	}

	publicKey, err := schnorr.ParsePubKey(pubkeyBytes)
	if err != nil {
		return fmt.Errorf("failed to parse pubkey: %w", err)
	}

	sigBytes, err := hex.DecodeString(event.Sig)
	if err != nil {
		return fmt.Errorf("invalid signature hex")
	}

	signature, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("failed to parse signature: %w", err)
	}

	idBytes, err := hex.DecodeString(event.ID)
	if err != nil {
		return fmt.Errorf("invalid event id hex")
	}

	return VerifySignature(signature, idBytes, publicKey)
}

// SignEvent computes the event id and signs it with the given private key,
// filling in PubKey, ID and Sig. Used by tests and the relay's own events.
func SignEvent(event *nostr.Event, privateKey *btcec.PrivateKey) error {
	pubkey := privateKey.PubKey()
	event.PubKey = hex.EncodeToString(schnorr.SerializePubKey(pubkey))
	event.ID = event.GetID()

	idBytes, err := hex.DecodeString(event.ID)
	if err != nil {
		return fmt.Errorf("invalid event id hex: %w", err)
	}

	signature, err := SignData(idBytes, privateKey)
	if err != nil {
		return err
	}

	event.Sig = hex.EncodeToString(signature.Serialize())
	return nil
}

func GeneratePrivateKey() (*secp256k1.PrivateKey, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	return privateKey, nil
}

func SerializePrivateKey(privateKey *secp256k1.PrivateKey) (*string, error) {
	privateKeyBytes := privateKey.Serialize()

	bytesToBits, err := bech32.ConvertBits(privateKeyBytes, 8, 5, true)
	if err != nil {
		return nil, err
	}

	encodedKey, err := bech32.Encode("nsec", bytesToBits)
	if err != nil {
		return nil, err
	}

	return &encodedKey, nil
}

func SerializePublicKey(publicKey *secp256k1.PublicKey) (*string, error) {
	publicKeyBytes := schnorr.SerializePubKey(publicKey)

	bytesToBits, err := bech32.ConvertBits(publicKeyBytes, 8, 5, true)
	if err != nil {
		return nil, err
	}

	encodedKey, err := bech32.Encode("npub", bytesToBits)
	if err != nil {
		return nil, err
	}

	return &encodedKey, nil
}
