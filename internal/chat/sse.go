package chat

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"strings"
)

const (
	ssePrefix   = "data: "
	sseSentinel = "[DONE]"
)

// sseDelta mirrors one streaming record from the gateway.
type sseDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// TokenScanner decodes a server-sent-event byte stream into text tokens.
// Records are newline-delimited; only lines prefixed "data: " carry
// payloads, and the "[DONE]" sentinel is ignored. A malformed payload is
// logged and skipped, it never terminates the scan. The scanner buffers
// partial trailing lines internally, so arbitrary chunking of the
// underlying reader does not affect the decoded output.
type TokenScanner struct {
	r      *bufio.Reader
	logger *log.Logger
	eof    bool
}

// NewTokenScanner wraps r. The scanner does not close r; ownership of the
// underlying stream stays with the caller.
func NewTokenScanner(r io.Reader, logger *log.Logger) *TokenScanner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &TokenScanner{r: bufio.NewReader(r), logger: logger}
}

// Next returns the next non-empty token. It returns io.EOF when the
// stream is exhausted and any underlying read error otherwise.
func (s *TokenScanner) Next() (string, error) {
	for {
		if s.eof {
			return "", io.EOF
		}
		line, err := s.r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return "", err
			}
			// Final line may arrive without a trailing newline.
			s.eof = true
			if line == "" {
				return "", io.EOF
			}
		}
		tok, ok := s.decodeLine(line)
		if ok {
			return tok, nil
		}
	}
}

// decodeLine extracts the token carried by one framed line, if any.
func (s *TokenScanner) decodeLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, ssePrefix) {
		return "", false // keep-alive, comment or unrecognized line
	}
	payload := line[len(ssePrefix):]
	if payload == sseSentinel {
		return "", false
	}
	var rec sseDelta
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		s.logger.Printf("skipping malformed stream record: %v", err)
		return "", false
	}
	if len(rec.Choices) == 0 {
		return "", false
	}
	tok := rec.Choices[0].Delta.Content
	return tok, tok != ""
}

// DecodeStream drains r, invoking fn for every decoded token. It returns
// nil on natural stream end and the underlying error otherwise.
func DecodeStream(r io.Reader, logger *log.Logger, fn func(token string)) error {
	sc := NewTokenScanner(r, logger)
	for {
		tok, err := sc.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fn(tok)
	}
}
