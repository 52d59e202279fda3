package idempotency

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
)

// Result is the replayable outcome of a wrapped operation: the status
// code, an allow-listed subset of response headers, the raw body and a
// body-type tag so the replay can restore the original content type even
// when the headers were stripped.
type Result struct {
	Status   int
	Header   http.Header
	BodyType string
	Body     []byte
}

// encodeResult packs a result as
// [4 status][4 hdrLen][hdrJSON][2 typeLen][bodyType][body].
// The layout mirrors the response-cache payload format so a record is a
// single opaque value in the store.
func encodeResult(res *Result) ([]byte, error) {
	hdrJSON, err := json.Marshal(res.Header)
	if err != nil {
		return nil, err
	}
	bodyType := []byte(res.BodyType)
	total := 4 + 4 + len(hdrJSON) + 2 + len(bodyType) + len(res.Body)
	out := make([]byte, total)
	binary.BigEndian.PutUint32(out[0:4], uint32(res.Status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	off := 8
	off += copy(out[off:], hdrJSON)
	binary.BigEndian.PutUint16(out[off:off+2], uint16(len(bodyType)))
	off += 2
	off += copy(out[off:], bodyType)
	copy(out[off:], res.Body)
	return out, nil
}

// decodeResult is the inverse of encodeResult. ok is false for payloads
// that do not parse; callers treat those as a cache miss.
func decodeResult(bs []byte) (*Result, bool) {
	if len(bs) < 10 {
		return nil, false
	}
	status := int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen+2 > len(bs) {
		return nil, false
	}
	hdr := make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &hdr); err != nil {
			return nil, false
		}
	}
	off := 8 + hlen
	tlen := int(binary.BigEndian.Uint16(bs[off : off+2]))
	off += 2
	if off+tlen > len(bs) {
		return nil, false
	}
	bodyType := string(bs[off : off+tlen])
	body := bs[off+tlen:]
	return &Result{Status: status, Header: hdr, BodyType: bodyType, Body: body}, true
}
