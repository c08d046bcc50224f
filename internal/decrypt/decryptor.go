package decrypt

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"

	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

const gcmNonceSize = 12

// Decryptor orchestrates blob fetch, envelope detection, sealed-key recovery
// and AEAD open. Byte buffers are dropped once the caller has the plaintext.
type Decryptor struct {
	aggregator *AggregatorClient
	keys       *KeyServiceClient
	log        *logger.Logger
}

// NewDecryptor creates a decryptor from its two upstream clients.
func NewDecryptor(aggregator *AggregatorClient, keys *KeyServiceClient, log *logger.Logger) *Decryptor {
	if log == nil {
		log = logger.NewDefault("decrypt")
	}
	return &Decryptor{
		aggregator: aggregator,
		keys:       keys,
		log:        log,
	}
}

// Decrypt fetches the referenced blob and returns its plaintext.
//
// Envelope-encoded blobs carry a sealed AEAD key: the key service opens the
// sealed key (expected 32 bytes) and the payload is decrypted locally.
// Directly-sealed blobs are opened entirely by the key service, which then
// returns the plaintext itself.
func (d *Decryptor) Decrypt(ctx context.Context, blobRef, encryptedObjectHex, identity, sessionKey string) ([]byte, error) {
	if _, err := hex.DecodeString(encryptedObjectHex); err != nil {
		return nil, newError(KindValidation, "encrypted object is not valid hex", err)
	}

	blob, err := d.aggregator.FetchBlob(ctx, blobRef)
	if err != nil {
		return nil, err
	}

	if env, ok := ParseEnvelope(blob); ok {
		d.log.WithField("blob", truncateID(blobRef)).Debug("detected envelope encryption format")

		key, err := d.keys.RecoverKey(ctx, encryptedObjectHex, identity, sessionKey)
		if err != nil {
			return nil, err
		}
		if len(key) != 32 {
			return nil, newError(KindDecryption,
				fmt.Sprintf("recovered key has unexpected length %d", len(key)), nil)
		}

		plaintext, err := openAESGCM(env.Ciphertext, key)
		if err != nil {
			return nil, err
		}
		d.log.WithField("blob", truncateID(blobRef)).
			Infof("decrypted envelope blob (%d bytes)", len(plaintext))
		return plaintext, nil
	}

	d.log.WithField("blob", truncateID(blobRef)).Debug("using direct sealed decryption")
	plaintext, err := d.keys.RecoverKey(ctx, encryptedObjectHex, identity, sessionKey)
	if err != nil {
		return nil, err
	}
	d.log.WithField("blob", truncateID(blobRef)).
		Infof("decrypted direct blob (%d bytes)", len(plaintext))
	return plaintext, nil
}

// openAESGCM decrypts [iv:12][ciphertext+tag] with AES-256-GCM.
func openAESGCM(data, key []byte) ([]byte, error) {
	if len(data) < gcmNonceSize {
		return nil, newError(KindValidation, "ciphertext shorter than nonce", nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, newError(KindDecryption, "new cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, newError(KindDecryption, "new gcm", err)
	}

	nonce := data[:gcmNonceSize]
	body := data[gcmNonceSize:]

	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, newError(KindDecryption, "authenticated decryption failed", err)
	}
	return plaintext, nil
}
