package util

import (
	"fmt"

	"github.com/vmihailenco/msgpack"
)

// ToBlock encodes obj into a zero padded slice of blockSize bytes.
func ToBlock[T any](obj T, blockSize int) ([]byte, error) {
	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, err
	}

	if len(data) > blockSize {
		return nil, &KcoreError{Message: fmt.Sprintf("encoded size %d exceeds block size %d", len(data), blockSize)}
	}

	res := make([]byte, blockSize)
	copy(res, data)

	return res, nil
}

func FromBlock[T any](data []byte) (T, error) {
	var res T

	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, err
	}

	return res, nil
}
