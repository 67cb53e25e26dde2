package minerconn

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest returns the blake3 reference hash of a result body. The engine
// stores only this digest; raw miner output is discarded after scoring.
func Digest(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}
