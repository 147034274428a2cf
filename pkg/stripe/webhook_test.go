package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
)

const testSecret = "whsec_test"

func signedHeader(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyEventAcceptsValidSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","api_version":"2020-08-27","data":{"object":{"id":"in_1","object":"invoice"}}}`)

	event, err := VerifyEvent(payload, signedHeader(payload, testSecret, time.Now()), testSecret)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, stripe.EventTypeInvoicePaid, event.Type)
}

func TestClientConstructEventUsesSigningSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_9","object":"event","type":"checkout.session.completed"}`)
	c := &Client{signingSecret: testSecret}

	event, err := c.ConstructEvent(payload, signedHeader(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_9", event.ID)

	_, err = c.ConstructEvent(payload, signedHeader(payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, ErrSignature)
}

func TestVerifyEventRejects(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid"}`)
	fresh := signedHeader(payload, testSecret, time.Now())
	stale := signedHeader(payload, testSecret, time.Now().Add(-time.Hour))

	_, err := VerifyEvent([]byte(`{"id":"evt_2","object":"event","type":"invoice.paid"}`), fresh, testSecret)
	assert.ErrorIs(t, err, ErrSignature, "tampered payload")

	_, err = VerifyEvent(payload, "", testSecret)
	assert.ErrorIs(t, err, ErrSignature, "missing header")

	_, err = VerifyEvent(payload, stale, testSecret)
	assert.ErrorIs(t, err, ErrSignature, "stale timestamp")

	_, err = VerifyEvent(payload, fresh, "")
	assert.ErrorIs(t, err, errSecretRequired)
}
