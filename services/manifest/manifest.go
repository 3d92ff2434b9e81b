// Package manifest builds and verifies signed works manifests: the bulk
// ingestion format used to move an agent's collection from raw bucket
// contents into the relational works index.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest lists the works found under an agent's storage prefix together
// with the signature that authorises importing them.
type Manifest struct {
	Version          string    `yaml:"version"`
	Agent            string    `yaml:"agent"`
	Bucket           string    `yaml:"bucket"`
	CreatedAt        time.Time `yaml:"created_at"`
	SigningPublicKey string    `yaml:"signing_public_key,omitempty"`
	Signature        string    `yaml:"signature,omitempty"`
	Works            []Work    `yaml:"works"`
}

// Work describes a single artifact within the manifest.
type Work struct {
	Ordinal     int64  `yaml:"ordinal"`
	StoragePath string `yaml:"storage_path"`
	Title       string `yaml:"title,omitempty"`
	MimeType    string `yaml:"mime_type,omitempty"`
}

// SigningBytes marshals the manifest without its signature for
// signing/verification.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// Sign attaches a signature and the signing public key to the manifest.
func (m *Manifest) Sign(signer *Signer) error {
	if m == nil {
		return errors.New("nil manifest")
	}
	payload, err := m.SigningBytes()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return err
	}
	m.Signature = sig
	m.SigningPublicKey = signer.PublicKeyBase64()
	return nil
}

// Verify checks the embedded signature. The signer's configured public key,
// when present, must match the key the manifest claims.
func (m Manifest) Verify(signer *Signer) error {
	if m.Signature == "" {
		return errors.New("manifest is unsigned")
	}
	payload, err := m.SigningBytes()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return signer.Verify(payload, m.Signature, m.SigningPublicKey)
}

// Load reads a manifest from a YAML file.
func Load(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Agent == "" || m.Bucket == "" {
		return Manifest{}, errors.New("manifest missing agent or bucket")
	}
	return m, nil
}

// Save writes the manifest to a YAML file.
func (m Manifest) Save(path string) error {
	raw, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
