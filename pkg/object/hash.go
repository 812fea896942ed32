package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashObject computes the SHA-256 of the envelope "type len\0content",
// mirroring Git's object hashing but with SHA-256.
func HashObject(objType ObjectType, data []byte) Hash {
	header := fmt.Sprintf("%s %d\x00", objType, len(data))
	h := sha256.New()
	h.Write([]byte(header))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// HashBlob returns the OID a blob with the given content would be stored
// under, without writing it.
func HashBlob(data []byte) Hash {
	return HashObject(TypeBlob, data)
}

// EmptyTreeHash is the OID of the tree with no entries.
var EmptyTreeHash = HashObject(TypeTree, nil)
