// Package cos ("common os/string") collects small helpers shared across the
// orchestrator, mirroring aistore's own cmn/cos package.
package cos

import (
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

// GenUUID returns a fresh, lowercase, hyphenated UUID -- used for task_id.
func GenUUID() string { return uuid.NewString() }

// MustMarshal panics on encode failure: reserved for values whose shape is
// controlled entirely by this code base (never for user input).
func MustMarshal(v any) []byte {
	b, err := JSON.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func Marshal(v any) ([]byte, error) { return JSON.Marshal(v) }

func Unmarshal(data []byte, v any) error { return JSON.Unmarshal(data, v) }

// Clock is the single clock read used for created_at/updated_at so
// tests can substitute a deterministic clock by swapping Clock.
var Clock = func() time.Time { return time.Now().UTC() }
