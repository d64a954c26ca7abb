// Package github is the identity-provider client. Given a bearer token it
// resolves the authenticated profile plus the follower and following id
// lists consumed by the visibility engine.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

type Profile struct {
	ID           int64
	Login        string
	AvatarURL    string
	FollowerIDs  []int64
	FollowingIDs []int64
}

type Client struct {
	baseURL string
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{baseURL: baseURL}
}

// FetchProfile validates the token by fetching the authenticated user, then
// loads the follower and following id lists. Any failure invalidates the
// whole fetch; the caller downgrades the login to a guest session.
func (c *Client) FetchProfile(ctx context.Context, token string) (*Profile, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, src)

	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.getJSON(ctx, httpClient, "/user", &user); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if user.ID == 0 || user.Login == "" {
		return nil, fmt.Errorf("fetch profile: provider returned empty identity")
	}

	followers, err := c.fetchIDs(ctx, httpClient, "/user/followers")
	if err != nil {
		return nil, fmt.Errorf("fetch followers: %w", err)
	}
	following, err := c.fetchIDs(ctx, httpClient, "/user/following")
	if err != nil {
		return nil, fmt.Errorf("fetch following: %w", err)
	}

	return &Profile{
		ID:           user.ID,
		Login:        user.Login,
		AvatarURL:    user.AvatarURL,
		FollowerIDs:  followers,
		FollowingIDs: following,
	}, nil
}

func (c *Client) fetchIDs(ctx context.Context, httpClient *http.Client, path string) ([]int64, error) {
	var users []struct {
		ID int64 `json:"id"`
	}
	if err := c.getJSON(ctx, httpClient, path+"?per_page=100", &users); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (c *Client) getJSON(ctx context.Context, httpClient *http.Client, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
