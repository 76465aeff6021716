package wire

// TokenKind classifies a Scan token.
type TokenKind uint8

const (
	// TokenFrame is a delimited frame (valid or not).
	TokenFrame TokenKind = iota

	// TokenACK is an out-of-envelope acknowledgement byte.
	TokenACK

	// TokenNAK is an out-of-envelope negative acknowledgement byte.
	TokenNAK
)

// String returns the token kind name.
func (k TokenKind) String() string {
	switch k {
	case TokenFrame:
		return "FRAME"
	case TokenACK:
		return "ACK"
	case TokenNAK:
		return "NAK"
	default:
		return "UNKNOWN"
	}
}

// Token is one unit found by Scan.
type Token struct {
	Kind TokenKind

	// Frame is set for TokenFrame.
	Frame Frame

	// Raw is the delimited span for TokenFrame, or the control byte.
	Raw []byte
}

// Scan tokenizes buf. It returns the complete tokens in order and the number
// of bytes consumed. Bytes after consumed belong to a frame whose END has not
// arrived yet; the oldest unmatched START owns them. Bytes outside a frame
// other than ACK and NAK are skipped.
//
// Raw slices alias buf.
func Scan(buf []byte) (tokens []Token, consumed int) {
	spanStart := -1
	for i, b := range buf {
		if spanStart >= 0 {
			if b != End {
				continue
			}
			span := buf[spanStart : i+1]
			tokens = append(tokens, Token{Kind: TokenFrame, Frame: DecodeFrame(span), Raw: span})
			spanStart = -1
			consumed = i + 1
			continue
		}

		switch b {
		case Start:
			spanStart = i
		case ACK:
			tokens = append(tokens, Token{Kind: TokenACK, Raw: buf[i : i+1]})
		case NAK:
			tokens = append(tokens, Token{Kind: TokenNAK, Raw: buf[i : i+1]})
		}
		if spanStart < 0 {
			consumed = i + 1
		}
	}
	return tokens, consumed
}

// Decode scans a complete stream and returns its valid frames in order.
// Invalid frames are dropped and counted; checksum failures are counted
// separately as well as in dropped.
func Decode(stream []byte) (frames []Frame, dropped, checksumErrors int) {
	tokens, _ := Scan(stream)
	for _, tok := range tokens {
		if tok.Kind != TokenFrame {
			continue
		}
		if !tok.Frame.Valid {
			dropped++
			if IsChecksumMismatch(tok.Frame.Err) {
				checksumErrors++
			}
			continue
		}
		frames = append(frames, tok.Frame)
	}
	return frames, dropped, checksumErrors
}
