package kiro

import (
	"github.com/bytedance/sonic"
)

// fastJSON is used on hot parse paths; safeJSON serializes outbound request
// bodies with full validation.
var (
	fastJSON = sonic.ConfigFastest
	safeJSON = sonic.ConfigStd
)

func marshalJSON(v any) ([]byte, error) {
	return safeJSON.Marshal(v)
}

func unmarshalJSON(data []byte, v any) error {
	return fastJSON.Unmarshal(data, v)
}
