package sipparse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zurustar/smqueued/internal/sipmsg"
)

// Parser parses and serializes SIP messages on the wire.
type Parser struct{}

// NewParser creates a new SIP message parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses a SIP message from raw bytes.
func (p *Parser) Parse(data []byte) (*sipmsg.Message, error) {
	if len(data) == 0 {
		return nil, errors.New("empty message data")
	}

	reader := bufio.NewReader(bytes.NewReader(data))

	startLine, err := p.parseStartLine(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start line: %w", err)
	}

	headers, err := p.parseHeaders(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse headers: %w", err)
	}

	body, err := p.parseBody(reader, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse body: %w", err)
	}

	return &sipmsg.Message{
		StartLine: startLine,
		Headers:   headers,
		Body:      body,
	}, nil
}

func (p *Parser) parseStartLine(reader *bufio.Reader) (sipmsg.StartLine, error) {
	line, err := p.readLine(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read start line: %w", err)
	}

	parts := strings.Fields(line)
	if len(parts) < 3 {
		return nil, fmt.Errorf("invalid start line format: %s", line)
	}

	if strings.HasPrefix(parts[0], "SIP/") {
		version := parts[0]
		statusCode, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid status code: %s", parts[1])
		}
		reasonPhrase := strings.Join(parts[2:], " ")

		return &sipmsg.StatusLine{
			Version:      version,
			StatusCode:   statusCode,
			ReasonPhrase: reasonPhrase,
		}, nil
	}

	method := parts[0]
	requestURI := parts[1]
	version := parts[2]

	return &sipmsg.RequestLine{
		Method:     method,
		RequestURI: requestURI,
		Version:    version,
	}, nil
}

func (p *Parser) parseHeaders(reader *bufio.Reader) (map[string][]string, error) {
	headers := make(map[string][]string)
	var lastHeaderName string

	for {
		line, err := p.readLine(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read header line: %w", err)
		}

		if line == "" {
			break
		}

		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if lastHeaderName == "" {
				return nil, errors.New("header continuation without previous header")
			}
			lastIndex := len(headers[lastHeaderName]) - 1
			headers[lastHeaderName][lastIndex] += " " + strings.TrimSpace(line)
			continue
		}

		colonIndex := strings.Index(line, ":")
		if colonIndex == -1 {
			return nil, fmt.Errorf("invalid header format: %s", line)
		}

		name := strings.TrimSpace(line[:colonIndex])
		value := strings.TrimSpace(line[colonIndex+1:])

		if name == "" {
			return nil, fmt.Errorf("empty header name: %s", line)
		}

		name = p.expandCompactHeader(name)
		lastHeaderName = name

		if p.isMultiValueHeader(name) {
			values := p.parseMultiValueHeader(value)
			headers[name] = append(headers[name], values...)
		} else {
			headers[name] = append(headers[name], value)
		}
	}

	return headers, nil
}

func (p *Parser) parseBody(reader *bufio.Reader, headers map[string][]string) ([]byte, error) {
	contentLengthStr := ""
	if values, exists := headers[sipmsg.HeaderContentLength]; exists && len(values) > 0 {
		contentLengthStr = values[0]
	}

	if contentLengthStr == "" {
		return nil, nil
	}

	contentLength, err := strconv.Atoi(contentLengthStr)
	if err != nil {
		return nil, fmt.Errorf("invalid Content-Length: %s", contentLengthStr)
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("negative Content-Length: %d", contentLength)
	}

	if contentLength == 0 {
		return nil, nil
	}

	body := make([]byte, contentLength)
	totalRead := 0

	for totalRead < contentLength {
		n, err := reader.Read(body[totalRead:])
		if err != nil {
			if n == 0 {
				return nil, fmt.Errorf("failed to read body: %w", err)
			}
		}
		totalRead += n
		if totalRead >= contentLength {
			break
		}
	}

	return body, nil
}

func (p *Parser) readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *Parser) expandCompactHeader(name string) string {
	switch strings.ToLower(name) {
	case "i":
		return sipmsg.HeaderCallID
	case "m":
		return sipmsg.HeaderContact
	case "l":
		return sipmsg.HeaderContentLength
	case "c":
		return sipmsg.HeaderContentType
	case "f":
		return sipmsg.HeaderFrom
	case "k":
		return sipmsg.HeaderSupported
	case "t":
		return sipmsg.HeaderTo
	case "v":
		return sipmsg.HeaderVia
	default:
		return name
	}
}

func (p *Parser) isMultiValueHeader(name string) bool {
	switch name {
	case sipmsg.HeaderVia, sipmsg.HeaderContact, sipmsg.HeaderAccept,
		sipmsg.HeaderAllow, sipmsg.HeaderSupported:
		return true
	default:
		return false
	}
}

func (p *Parser) parseMultiValueHeader(value string) []string {
	var values []string
	var current strings.Builder
	inQuotes := false
	inAngleBrackets := false

	for _, char := range value {
		switch char {
		case '"':
			inQuotes = !inQuotes
			current.WriteRune(char)
		case '<':
			inAngleBrackets = true
			current.WriteRune(char)
		case '>':
			inAngleBrackets = false
			current.WriteRune(char)
		case ',':
			if !inQuotes && !inAngleBrackets {
				val := strings.TrimSpace(current.String())
				if val != "" {
					values = append(values, val)
				}
				current.Reset()
			} else {
				current.WriteRune(char)
			}
		default:
			current.WriteRune(char)
		}
	}

	val := strings.TrimSpace(current.String())
	if val != "" {
		values = append(values, val)
	}

	return values
}

// Serialize converts a SIP message back to wire format.
func (p *Parser) Serialize(msg *sipmsg.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	if msg.StartLine == nil {
		return nil, errors.New("start line is missing")
	}

	var buffer bytes.Buffer

	buffer.WriteString(msg.StartLine.String())
	buffer.WriteString("\r\n")

	headerOrder := []string{
		sipmsg.HeaderVia,
		sipmsg.HeaderMaxForwards,
		sipmsg.HeaderTo,
		sipmsg.HeaderFrom,
		sipmsg.HeaderCallID,
		sipmsg.HeaderCSeq,
		sipmsg.HeaderContact,
		sipmsg.HeaderExpires,
		sipmsg.HeaderAllow,
		sipmsg.HeaderAccept,
		sipmsg.HeaderSupported,
		sipmsg.HeaderUserAgent,
		sipmsg.HeaderServer,
		sipmsg.HeaderMimeVersion,
		sipmsg.HeaderContentType,
		sipmsg.HeaderContentLength,
	}

	writtenHeaders := make(map[string]bool)
	for _, headerName := range headerOrder {
		if values, exists := msg.Headers[headerName]; exists {
			for _, value := range values {
				buffer.WriteString(headerName)
				buffer.WriteString(": ")
				buffer.WriteString(value)
				buffer.WriteString("\r\n")
			}
			writtenHeaders[headerName] = true
		}
	}

	for headerName, values := range msg.Headers {
		if !writtenHeaders[headerName] {
			for _, value := range values {
				buffer.WriteString(headerName)
				buffer.WriteString(": ")
				buffer.WriteString(value)
				buffer.WriteString("\r\n")
			}
		}
	}

	buffer.WriteString("\r\n")

	if len(msg.Body) > 0 {
		buffer.Write(msg.Body)
	}

	return buffer.Bytes(), nil
}
