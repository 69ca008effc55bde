package monitor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
)

// TagSource lists upstream release tags, newest first
type TagSource interface {
	Tags(ctx context.Context) ([]string, error)
}

// FetchError is returned when the release tags could not be fetched or were unusable
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch release tags from %v: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// GitTagSource lists tags of a remote git repository without cloning it
type GitTagSource struct {
	url     string
	pattern *regexp.Regexp
}

// NewGitTagSource returns a GitTagSource for url. Only tags matching pattern are
// returned, an empty pattern matches every tag.
func NewGitTagSource(url, pattern string) (*GitTagSource, error) {
	var re *regexp.Regexp
	if pattern != "" {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid tag pattern %q: %w", pattern, err)
		}
		re = compiled
	}
	return &GitTagSource{url: url, pattern: re}, nil
}

// Tags runs the equivalent of git ls-remote --tags and returns matching tags, newest first
func (g *GitTagSource) Tags(ctx context.Context) ([]string, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{g.url},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return nil, &FetchError{Source: g.url, Err: fmt.Errorf("ls-remote: %w", err)}
	}

	var names []string
	for _, ref := range refs {
		names = append(names, ref.Name().String())
	}
	tags := filterTags(names, g.pattern)
	if len(tags) == 0 {
		return nil, &FetchError{Source: g.url, Err: ErrNoTags}
	}
	return tags, nil
}

func filterTags(refNames []string, pattern *regexp.Regexp) []string {
	seen := map[string]bool{}
	var tags []string
	for _, name := range refNames {
		ref := plumbing.ReferenceName(name)
		if !ref.IsTag() {
			continue
		}
		tag := strings.TrimSuffix(ref.Short(), "^{}")
		if tag == "" || seen[tag] {
			continue
		}
		if pattern != nil && !pattern.MatchString(tag) {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	SortNewestFirst(tags)
	return tags
}

// SortNewestFirst orders tags descending. Numeric tags such as 2025020100 compare by
// value, everything else compares lexically.
func SortNewestFirst(tags []string) {
	sort.SliceStable(tags, func(i, j int) bool {
		a, errA := strconv.ParseUint(tags[i], 10, 64)
		b, errB := strconv.ParseUint(tags[j], 10, 64)
		if errA == nil && errB == nil {
			return a > b
		}
		return tags[i] > tags[j]
	})
}
