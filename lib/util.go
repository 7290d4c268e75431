package lib

import json "github.com/goccy/go-json"

// Fixbuffer will expand the buffer if its capacity is less than size and
// return the buffer of size length.
func Fixbuffer(buffer []byte, size int64) []byte {
	if buffer == nil || int64(cap(buffer)) < size {
		buffer = make([]byte, size)
	}
	return buffer[:size]
}

// Prettystats uses json.MarshalIndent, if pretty is true, instead of
// json.Marshal. If Marshal return error Prettystats will panic.
func Prettystats(stats map[string]interface{}, pretty bool) string {
	if pretty {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			panic(err)
		}
		return string(data)
	}
	data, err := json.Marshal(stats)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// AbsInt64 absolute value of int64 number. Except for -2^63, where
// returned value will be same as input.
func AbsInt64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
