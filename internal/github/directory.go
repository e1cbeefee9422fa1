// Package github answers follower questions by reading the public followers
// listing of an account.
package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultBaseURL  = "https://github.com"
	DefaultAccount  = "sepehr-safari"
	DefaultMaxPages = 10

	followerSelector = "img.avatar.avatar-user"
	attributeAlt     = "alt"
	handlePrefix     = "@"
	queryTab         = "tab"
	queryPage        = "page"
	tabFollowers     = "followers"
	defaultTimeout   = 15 * time.Second
	errorBodyLimit   = 512
)

// Config describes where the follower listing lives.
type Config struct {
	BaseURL  string
	Account  string
	MaxPages int
	HTTP     *http.Client
}

// Directory implements reward.FollowerDirectory over the HTML followers tab.
type Directory struct {
	baseURL  string
	account  string
	maxPages int
	http     *http.Client
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Directory, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: directory base url: %v", reward.ErrInvalidConfig, err)
	}
	account := strings.Trim(strings.TrimSpace(cfg.Account), "/")
	if account == "" {
		return nil, fmt.Errorf("%w: directory account is required", reward.ErrInvalidConfig)
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	client := cfg.HTTP
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Directory{baseURL: baseURL, account: account, maxPages: maxPages, http: client}, nil
}

// Account returns the account whose followers are checked.
func (directory *Directory) Account() string {
	return directory.account
}

// IsFollower pages through the followers listing until username is found or a
// page lists nobody.
func (directory *Directory) IsFollower(ctx context.Context, username reward.Username) (bool, error) {
	target := username.String()
	for page := 1; page <= directory.maxPages; page++ {
		handles, err := directory.fetchPage(ctx, page)
		if err != nil {
			return false, fmt.Errorf("%w: page %d: %w", reward.ErrDirectoryUnavailable, page, err)
		}
		if len(handles) == 0 {
			return false, nil
		}
		for _, handle := range handles {
			if handle == target {
				return true, nil
			}
		}
	}
	return false, nil
}

func (directory *Directory) fetchPage(ctx context.Context, page int) ([]string, error) {
	query := url.Values{}
	query.Set(queryTab, tabFollowers)
	query.Set(queryPage, strconv.Itoa(page))
	endpoint := directory.baseURL + "/" + url.PathEscape(directory.account) + "?" + query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "text/html")
	response, err := directory.http.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, errorBodyLimit))
		return nil, fmt.Errorf("status %d: %s", response.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return parseFollowerHandles(response.Body)
}

// parseFollowerHandles extracts lower-cased handles from follower avatars.
func parseFollowerHandles(body io.Reader) ([]string, error) {
	document, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}
	var handles []string
	document.Find(followerSelector).Each(func(_ int, selection *goquery.Selection) {
		alt, ok := selection.Attr(attributeAlt)
		if !ok {
			return
		}
		// Follower avatars carry "@handle"; the profile owner's avatar does not.
		alt = strings.TrimSpace(alt)
		if !strings.HasPrefix(alt, handlePrefix) {
			return
		}
		handle := strings.ToLower(strings.TrimPrefix(alt, handlePrefix))
		if handle != "" {
			handles = append(handles, handle)
		}
	})
	return handles, nil
}
