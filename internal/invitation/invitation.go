// Package invitation разбирает out-of-band приглашения, закодированные в URL.
package invitation

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

var (
	// ErrNoInvitation возвращается, если в URL нет параметра с приглашением
	ErrNoInvitation = errors.New("url does not carry an invitation")
	// ErrInvalidInvitation возвращается, если приглашение не удалось декодировать
	ErrInvalidInvitation = errors.New("invalid invitation")
)

// invitationParams параметры, в которых агенты передают приглашение, в порядке приоритета
var invitationParams = []string{"oob", "c_i", "d_m"}

var encodings = []*base64.Encoding{
	base64.URLEncoding,
	base64.RawURLEncoding,
	base64.StdEncoding,
	base64.RawStdEncoding,
}

// Decoder декодирует приглашение из URL
type Decoder struct{}

// NewDecoder создаёт новый экземпляр Decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode возвращает приглашение из URL в каноническом JSON виде
func (d *Decoder) Decode(rawURL string) (json.RawMessage, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
	}

	query := u.Query()
	var encoded string
	for _, param := range invitationParams {
		if v := query.Get(param); v != "" {
			encoded = v
			break
		}
	}
	if encoded == "" {
		return nil, ErrNoInvitation
	}

	data, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
	}

	// большие целые переживают повторное кодирование без потери точности
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after invitation", ErrInvalidInvitation)
	}
	if _, ok := doc["@type"]; !ok {
		return nil, fmt.Errorf("%w: @type is missing", ErrInvalidInvitation)
	}

	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
	}
	return canonical, nil
}

func decodeBase64(s string) ([]byte, error) {
	// '+' стандартного алфавита после разбора query превращается в пробел
	s = strings.ReplaceAll(s, " ", "+")
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
