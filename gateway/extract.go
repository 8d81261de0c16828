package gateway

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:[a-zA-Z]+)?\\s*\\n?(.*?)```")

// ExtractJSON はモデルの応答から JSON を取り出します。
// 1) そのままパース 2) コードフェンスの中身 3) 最初の { から最後の }（配列なら [ と ]）の順に試します。
func ExtractJSON(raw string) (json.RawMessage, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, &MalformedResponseError{Raw: raw, Err: errors.New("empty response")}
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), nil
	}
	for _, m := range fencedBlock.FindAllStringSubmatch(s, -1) {
		body := strings.TrimSpace(m[1])
		if json.Valid([]byte(body)) {
			return json.RawMessage(body), nil
		}
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start >= 0 && end > start {
			body := s[start : end+1]
			if json.Valid([]byte(body)) {
				return json.RawMessage(body), nil
			}
		}
	}
	return nil, &MalformedResponseError{Raw: raw, Err: errors.New("no JSON value found")}
}
