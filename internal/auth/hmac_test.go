// ABOUTME: Unit tests for request signing and verification
// ABOUTME: Covers golden vectors, the replay window edges, header lookup and strict replay mode

package auth

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mrwp-agent/internal/replay"
)

const testSecret = "s3cr3t"

type staticSecret struct {
	secret string
	err    error
}

func (s staticSecret) SiteSecret(context.Context) (string, error) {
	return s.secret, s.err
}

func TestSign_GoldenVectors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"toggle maintenance", `{"action":"toggle_maintenance"}`, "2bd9420bdf3d73c99d7d48d8f0e62ba0af836728503edeafcaa817426e676870"},
		{"empty object", `{}`, "d6dac49d209290337356f1077e44f151a9d1a39f24b305533082d1714e948f9c"},
		{"empty body", ``, "7bc14f1d93e9f78a88708ab9be168b06f7bf42b25ac94010fba52c78410c449f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sign(testSecret, "1700000000", []byte(tt.body))
			if got != tt.want {
				t.Errorf("Sign() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSign_EmptySecret(t *testing.T) {
	assert.Empty(t, Sign("", "1700000000", []byte("{}")))
}

func TestVerifyWithSecret_RoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"action":"toggle_maintenance"}`)
	h := GenerateHeaders(testSecret, body, now)

	assert.Equal(t, "1700000000", h.Get(HeaderTimestamp))
	assert.Equal(t, "2bd9420bdf3d73c99d7d48d8f0e62ba0af836728503edeafcaa817426e676870", h.Get(HeaderSignature))
	assert.NoError(t, VerifyWithSecret(testSecret, h, body, now))
}

func TestVerifyWithSecret_Window(t *testing.T) {
	signedAt := time.Unix(1700000000, 0)
	body := []byte(`{}`)
	h := GenerateHeaders(testSecret, body, signedAt)

	tests := []struct {
		name    string
		offset  time.Duration
		wantErr error
	}{
		{"exact", 0, nil},
		{"299s late", 299 * time.Second, nil},
		{"300s late", 300 * time.Second, nil},
		{"301s late", 301 * time.Second, ErrTimestampOutOfWindow},
		{"299s early", -299 * time.Second, nil},
		{"301s early", -301 * time.Second, ErrTimestampOutOfWindow},
		{"300s early", -300 * time.Second, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyWithSecret(testSecret, h, body, signedAt.Add(tt.offset))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifyWithSecret_ExtremeTimestamps(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"action":"toggle_debug"}`)

	for _, ts := range []string{
		strconv.FormatInt(math.MinInt64+now.Unix(), 10),
		strconv.FormatInt(math.MinInt64, 10),
		strconv.FormatInt(math.MaxInt64, 10),
		"0",
		"-1",
	} {
		t.Run(ts, func(t *testing.T) {
			h := http.Header{}
			h.Set(HeaderTimestamp, ts)
			h.Set(HeaderSignature, Sign(testSecret, ts, body))
			assert.ErrorIs(t, VerifyWithSecret(testSecret, h, body, now), ErrTimestampOutOfWindow)
		})
	}
}

func TestVerifyWithSecret_Failures(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"action":"toggle_debug"}`)
	good := GenerateHeaders(testSecret, body, now)

	t.Run("missing timestamp", func(t *testing.T) {
		h := http.Header{}
		h.Set(HeaderSignature, good.Get(HeaderSignature))
		assert.ErrorIs(t, VerifyWithSecret(testSecret, h, body, now), ErrMissingHeaders)
	})

	t.Run("missing signature", func(t *testing.T) {
		h := http.Header{}
		h.Set(HeaderTimestamp, good.Get(HeaderTimestamp))
		assert.ErrorIs(t, VerifyWithSecret(testSecret, h, body, now), ErrMissingHeaders)
	})

	t.Run("unparsable timestamp", func(t *testing.T) {
		h := good.Clone()
		h.Set(HeaderTimestamp, "yesterday")
		assert.ErrorIs(t, VerifyWithSecret(testSecret, h, body, now), ErrTimestampOutOfWindow)
	})

	t.Run("tampered body", func(t *testing.T) {
		err := VerifyWithSecret(testSecret, good, []byte(`{"action":"toggle_maintenance"}`), now)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.ErrorIs(t, VerifyWithSecret("other", good, body, now), ErrInvalidSignature)
	})

	t.Run("empty secret fails closed", func(t *testing.T) {
		h := good.Clone()
		h.Set(HeaderSignature, Sign("", h.Get(HeaderTimestamp), body)+"x")
		assert.ErrorIs(t, VerifyWithSecret("", h, body, now), ErrInvalidSignature)
		assert.ErrorIs(t, VerifyWithSecret("", good, body, now), ErrInvalidSignature)
	})

	t.Run("timestamp changed within window", func(t *testing.T) {
		h := good.Clone()
		h.Set(HeaderTimestamp, "1700000001")
		assert.ErrorIs(t, VerifyWithSecret(testSecret, h, body, now), ErrInvalidSignature)
	})

	t.Run("one body byte changed", func(t *testing.T) {
		tampered := append([]byte(nil), body...)
		tampered[len(tampered)-3] ^= 0x01
		assert.ErrorIs(t, VerifyWithSecret(testSecret, good, tampered, now), ErrInvalidSignature)
	})

	t.Run("one signature digit changed", func(t *testing.T) {
		sig := []byte(good.Get(HeaderSignature))
		for i := range sig {
			h := good.Clone()
			flipped := append([]byte(nil), sig...)
			if flipped[i] == '0' {
				flipped[i] = '1'
			} else {
				flipped[i] = '0'
			}
			h.Set(HeaderSignature, string(flipped))
			if err := VerifyWithSecret(testSecret, h, body, now); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("digit %d: expected ErrInvalidSignature, got %v", i, err)
			}
		}
	})

	t.Run("uppercase hex rejected", func(t *testing.T) {
		h := good.Clone()
		sig := []byte(h.Get(HeaderSignature))
		for i, c := range sig {
			if c >= 'a' && c <= 'f' {
				sig[i] = c - 32
			}
		}
		h.Set(HeaderSignature, string(sig))
		assert.ErrorIs(t, VerifyWithSecret(testSecret, h, body, now), ErrInvalidSignature)
	})
}

func TestLookupHeader_CaseInsensitiveAndCGI(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign(testSecret, ts, body)

	raw := http.Header{
		"X-MRWP-TIMESTAMP": {ts},
		"x-mrwp-signature": {sig},
	}
	assert.NoError(t, VerifyWithSecret(testSecret, raw, body, now))

	cgi := http.Header{
		"HTTP_X_MRWP_TIMESTAMP": {ts},
		"HTTP_X_MRWP_SIGNATURE": {sig},
	}
	assert.NoError(t, VerifyWithSecret(testSecret, cgi, body, now))

	both := http.Header{
		"X-Mrwp-Timestamp":      {ts},
		"HTTP_X_MRWP_TIMESTAMP": {"0"},
		"X-Mrwp-Signature":      {sig},
	}
	assert.Equal(t, ts, lookupHeader(both, HeaderTimestamp))
}

func TestAuthenticator_Verify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{}`)
	h := GenerateHeaders(testSecret, body, now)

	a := NewAuthenticator(staticSecret{secret: testSecret})
	require.NoError(t, a.Verify(context.Background(), h, body, now))
	require.NoError(t, a.Verify(context.Background(), h, body, now), "replays are allowed without a cache")

	boom := errors.New("disk on fire")
	broken := NewAuthenticator(staticSecret{err: boom})
	err := broken.Verify(context.Background(), h, body, now)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsAuthFailure(err))
}

func TestAuthenticator_StrictReplay(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cache := replay.New(ReplayWindow, 100, replay.WithClock(func() time.Time { return now }))
	defer cache.Close()

	a := NewAuthenticator(staticSecret{secret: testSecret}, WithReplayCache(cache))
	body := []byte(`{}`)
	h := GenerateHeaders(testSecret, body, now)

	require.NoError(t, a.Verify(context.Background(), h, body, now))
	err := a.Verify(context.Background(), h, body, now)
	assert.ErrorIs(t, err, ErrReplayedSignature)
	assert.True(t, IsAuthFailure(err))

	// A forged request must not poison the cache for the real one.
	forged := GenerateHeaders("wrong", body, now.Add(time.Second))
	assert.ErrorIs(t, a.Verify(context.Background(), forged, body, now), ErrInvalidSignature)
	genuine := GenerateHeaders(testSecret, body, now.Add(time.Second))
	assert.NoError(t, a.Verify(context.Background(), genuine, body, now))
}
