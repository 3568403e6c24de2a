// Package live implements the venue connector: a REST client for order
// management, a WebSocket feed for market data and user events, and a Bot
// that satisfies the same Trader contract as the simulator.
package live

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// sign returns the hex HMAC-SHA256 of payload, the venue's request signature
// scheme.
func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// clientOrderID encodes a numeric core order id under this process's prefix.
// The venue echoes client ids unchanged, so responses and stream events map
// back onto the core id.
func clientOrderID(prefix string, orderID int64) string {
	return prefix + "-" + strconv.FormatInt(orderID, 10)
}

// parseClientOrderID recovers the core order id from a client order id.
// Ids carrying a different prefix belong to another process and are skipped.
func parseClientOrderID(prefix, s string) (int64, bool) {
	rest, ok := strings.CutPrefix(s, prefix+"-")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
