package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrSignatureInvalid = errors.New("webhook signature invalid")

// VerifySignature checks a provider signature header of the form
// "t=<unix>,v1=<hex>" where v1 is HMAC-SHA256 over "<t>.<body>" with the
// shared secret. The timestamp must fall within the tolerance window to bound
// replay of captured deliveries. Any v1 candidate matching is sufficient
// (the provider sends several during secret rotation).
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" || secret == "" {
		return ErrSignatureInvalid
	}
	var timestamp int64
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return ErrSignatureInvalid
			}
			timestamp = parsed
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}
	if timestamp == 0 || len(candidates) == 0 {
		return ErrSignatureInvalid
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return ErrSignatureInvalid
		}
	}
	expected := ComputeSignature(payload, secret, timestamp)
	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// ComputeSignature produces the hex v1 signature for a payload. Tests and
// local tooling use it to forge valid deliveries.
func ComputeSignature(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
