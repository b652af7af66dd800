package dhcputil

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Returns the current time in the UTC zone.
func UTCNow() time.Time {
	return time.Now().UTC()
}

// Convert bytes to hex string.
func BytesToHex(bytesArray []byte) string {
	var buf bytes.Buffer
	for _, f := range bytesArray {
		fmt.Fprintf(&buf, "%02X", f)
	}
	return buf.String()
}

// Converts a hex string to bytes. The string may contain colon or
// hyphen separators between the octets, e.g. 00:03:00:01:aa:bb:cc:dd:ee:ff.
func HexToBytes(hexString string) ([]byte, error) {
	hexString = strings.ReplaceAll(hexString, ":", "")
	hexString = strings.ReplaceAll(hexString, "-", "")
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return nil, errors.Wrapf(err, "problem decoding hex string %s", hexString)
	}
	return decoded, nil
}

// Convenience function generating random bytes of the specified
// length and encoding them with base64.
func Base64Random(length int) (hash string, err error) {
	b := make([]byte, length)
	if _, err = rand.Read(b); err != nil {
		err = errors.Wrap(err, "problem generating random bytes")
		return
	}
	hash = base64.StdEncoding.EncodeToString(b)
	return
}
