package detect

import (
	"fmt"
	"regexp"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRegexTimeout bounds a single regex match.
const DefaultRegexTimeout = 500 * time.Millisecond

// DefaultPatternCacheSize is the number of compiled patterns shared across rules.
const DefaultPatternCacheSize = 4096

// patternCache shares compiled patterns between rules. Large corpora repeat
// the same globs and expressions many times, and compiled patterns are safe
// for concurrent use.
type patternCache struct {
	timeout time.Duration
	globs   *lru.Cache[string, *regexp.Regexp]
	regexes *lru.Cache[string, *regexp2.Regexp]
}

func newPatternCache(size int, timeout time.Duration) (*patternCache, error) {
	if size <= 0 {
		size = DefaultPatternCacheSize
	}
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}
	globs, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create glob cache: %w", err)
	}
	regexes, err := lru.New[string, *regexp2.Regexp](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create regex cache: %w", err)
	}
	return &patternCache{timeout: timeout, globs: globs, regexes: regexes}, nil
}

func (c *patternCache) wildcard(glob string) (*WildcardMatcher, error) {
	if re, ok := c.globs.Get(glob); ok {
		return &WildcardMatcher{Pattern: glob, re: re}, nil
	}
	re, err := regexp.Compile(wildcardToRegexp(glob))
	if err != nil {
		return nil, fmt.Errorf("failed to compile wildcard %q: %w", glob, err)
	}
	c.globs.Add(glob, re)
	return &WildcardMatcher{Pattern: glob, re: re}, nil
}

func (c *patternCache) regex(pattern string) (*RegexMatcher, error) {
	if re, ok := c.regexes.Get(pattern); ok {
		return &RegexMatcher{Pattern: pattern, re: re}, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern %q: %w", pattern, err)
	}
	re.MatchTimeout = c.timeout
	c.regexes.Add(pattern, re)
	return &RegexMatcher{Pattern: pattern, re: re}, nil
}
