package relay

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Stream ids are opaque tokens that embed ownership: the requester and the
// conversation subject, each base64url-encoded, followed by a ULID.
// The abort path verifies the caller against the embedded requester.

func newStreamID(requesterID, subjectID string) string {
	return strings.Join([]string{
		base64.RawURLEncoding.EncodeToString([]byte(requesterID)),
		base64.RawURLEncoding.EncodeToString([]byte(subjectID)),
		ulid.Make().String(),
	}, ".")
}

func parseStreamID(id string) (requesterID, subjectID string, err error) {
	parts := strings.Split(id, ".")
	if len(parts) != 3 {
		return "", "", fmt.Errorf("malformed stream id")
	}
	req, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", "", fmt.Errorf("malformed stream id")
	}
	subj, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", "", fmt.Errorf("malformed stream id")
	}
	if _, err := ulid.ParseStrict(parts[2]); err != nil {
		return "", "", fmt.Errorf("malformed stream id")
	}
	return string(req), string(subj), nil
}
