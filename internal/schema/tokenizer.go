package schema

import (
	"strconv"
	"strings"
)

// Base tokenizers.
const (
	TokenizerUnicode    = "unicode"
	TokenizerWhitespace = "whitespace"
)

// TokenizerConfig is the parsed form of the schema tokenizer string.
type TokenizerConfig struct {
	// Base is the word splitter: unicode or whitespace.
	Base string

	// RemoveDiacritics folds accented characters to their ASCII form.
	RemoveDiacritics bool

	// TokenChars are extra characters treated as part of a word (e.g. "-_").
	TokenChars string
}

// ParseTokenizer parses a space separated tokenizer description, for example
// "unicode remove_diacritics tokenchars=-_". "unicode61" is accepted as an alias
// of "unicode", and "remove_diacritics" may be followed by a numeric level where
// 0 disables folding.
func ParseTokenizer(spec string) (TokenizerConfig, error) {
	words := strings.Fields(spec)
	if len(words) == 0 {
		return TokenizerConfig{}, invalid("tokenizer cannot be empty")
	}

	var cfg TokenizerConfig
	switch strings.ToLower(words[0]) {
	case TokenizerUnicode, "unicode61":
		cfg.Base = TokenizerUnicode
	case TokenizerWhitespace:
		cfg.Base = TokenizerWhitespace
	default:
		return TokenizerConfig{}, invalid("unknown tokenizer %q", words[0])
	}

	for i := 1; i < len(words); i++ {
		word := words[i]
		switch {
		case strings.EqualFold(word, "remove_diacritics"):
			cfg.RemoveDiacritics = true
			if i+1 < len(words) {
				if level, err := strconv.Atoi(words[i+1]); err == nil {
					cfg.RemoveDiacritics = level > 0
					i++
				}
			}
		case strings.HasPrefix(strings.ToLower(word), "tokenchars="):
			cfg.TokenChars = word[len("tokenchars="):]
			if cfg.TokenChars == "" {
				return TokenizerConfig{}, invalid("tokenchars cannot be empty")
			}
		default:
			return TokenizerConfig{}, invalid("unknown tokenizer option %q", word)
		}
	}

	if cfg.TokenChars != "" && cfg.Base != TokenizerUnicode {
		return TokenizerConfig{}, invalid("tokenchars requires the unicode tokenizer")
	}
	return cfg, nil
}
