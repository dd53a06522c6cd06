package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/uhyunpark/dutchmarket/pkg/sequencer"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func heightKey(h sequencer.Height) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(h))
	return k[:]
}

func decodeHeight(b []byte) sequencer.Height {
	if len(b) != 8 {
		return 0
	}
	return sequencer.Height(binary.BigEndian.Uint64(b))
}
