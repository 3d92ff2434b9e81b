package manifest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	keys []string
	err  error
}

func (f *fakeLister) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.keys, nil
}

func testSigner(t *testing.T) *Signer {
	t.Helper()

	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	t.Setenv("AGE_SECRET_KEY", identity.String())
	t.Setenv("AGE_PUBLIC_KEY", "")

	signer, err := NewSignerFromEnv()
	require.NoError(t, err)
	return signer
}

func TestBuildOrdersAndFiltersWorks(t *testing.T) {
	lister := &fakeLister{keys: []string{
		"abraham/generations/3.png",
		"abraham/generations/1.png",
		"abraham/generations/notes.txt",
		"abraham/generations/cover.png",
		"abraham/generations/12.png",
	}}

	m, err := Build(context.Background(), BuildConfig{
		Agent:  "abraham",
		Bucket: "eden",
		Lister: lister,
		Now:    func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	require.Len(t, m.Works, 3)
	assert.Equal(t, int64(1), m.Works[0].Ordinal)
	assert.Equal(t, int64(3), m.Works[1].Ordinal)
	assert.Equal(t, int64(12), m.Works[2].Ordinal)
	assert.Equal(t, "abraham/generations/12.png", m.Works[2].StoragePath)
	assert.Equal(t, "12", m.Works[2].Title)
}

func TestBuildPropagatesListerErrors(t *testing.T) {
	lister := &fakeLister{err: errors.New("bucket unreachable")}

	_, err := Build(context.Background(), BuildConfig{
		Agent:  "abraham",
		Bucket: "eden",
		Lister: lister,
	})
	assert.Error(t, err)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer := testSigner(t)

	m := Manifest{
		Version:   "1",
		Agent:     "abraham",
		Bucket:    "eden",
		CreatedAt: time.Now().UTC(),
		Works:     []Work{{Ordinal: 1, StoragePath: "abraham/generations/1.png"}},
	}

	require.NoError(t, m.Sign(signer))
	assert.NotEmpty(t, m.Signature)
	assert.NotEmpty(t, m.SigningPublicKey)

	require.NoError(t, m.Verify(signer))
}

func TestVerifyRejectsTamperedManifest(t *testing.T) {
	signer := testSigner(t)

	m := Manifest{
		Version:   "1",
		Agent:     "abraham",
		Bucket:    "eden",
		CreatedAt: time.Now().UTC(),
		Works:     []Work{{Ordinal: 1, StoragePath: "abraham/generations/1.png"}},
	}
	require.NoError(t, m.Sign(signer))

	m.Works[0].StoragePath = "abraham/generations/999.png"
	assert.Error(t, m.Verify(signer))
}

func TestVerifyRejectsUnsignedManifest(t *testing.T) {
	signer := testSigner(t)
	m := Manifest{Version: "1", Agent: "abraham", Bucket: "eden"}
	assert.Error(t, m.Verify(signer))
}

func TestManifestSaveLoadRoundTrip(t *testing.T) {
	signer := testSigner(t)

	m := Manifest{
		Version:   "1",
		Agent:     "abraham",
		Bucket:    "eden",
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Works:     []Work{{Ordinal: 7, StoragePath: "abraham/generations/7.png", Title: "7"}},
	}
	require.NoError(t, m.Sign(signer))

	path := filepath.Join(t.TempDir(), "works.yaml")
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.Agent, loaded.Agent)
	assert.Equal(t, m.Works, loaded.Works)
	require.NoError(t, loaded.Verify(signer))
}
