package circloth

import (
	"context"
	"fmt"
)

// UsersClient manages user profiles and preferences.
type UsersClient struct{ client *Client }

func (uc *UsersClient) Get(ctx context.Context, userID string) (*User, error) {
	data, err := uc.client.doRequest(ctx, "GET", "/user/"+pathSegment(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	u, err := decodeJSON[User](data)
	if err != nil {
		return nil, err
	}
	if err := validateOne("user", u); err != nil {
		return nil, err
	}
	return u, nil
}

// Put creates or replaces the profile.
func (uc *UsersClient) Put(ctx context.Context, user User) error {
	if err := validateOne("user", &user); err != nil {
		return err
	}
	if _, err := uc.client.doRequest(ctx, "PUT", "/user/"+pathSegment(user.ID), user); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}
	return nil
}

// Patch updates the given profile fields.
func (uc *UsersClient) Patch(ctx context.Context, userID string, fields map[string]any) error {
	if _, err := uc.client.doRequest(ctx, "PATCH", "/user/"+pathSegment(userID), fields); err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return nil
}

func (uc *UsersClient) SetLanguage(ctx context.Context, userID, language string) error {
	return uc.Patch(ctx, userID, map[string]any{"language": language})
}

func (uc *UsersClient) SizePreferences(ctx context.Context, userID string) (SizePreferences, error) {
	data, err := uc.client.doRequest(ctx, "GET", "/user/"+pathSegment(userID)+"/size_preferences", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching size preferences: %w", err)
	}
	resp, err := decodeJSON[sizePreferencesResponse](data)
	if err != nil {
		return nil, err
	}
	if resp.SizePreferences == nil {
		return SizePreferences{}, nil
	}
	return resp.SizePreferences, nil
}

func (uc *UsersClient) SetSizePreferences(ctx context.Context, userID string, prefs SizePreferences) error {
	body := sizePreferencesResponse{SizePreferences: prefs}
	if _, err := uc.client.doRequest(ctx, "PATCH", "/user/"+pathSegment(userID)+"/size_preferences", body); err != nil {
		return fmt.Errorf("saving size preferences: %w", err)
	}
	return nil
}

// Logout drops every cached entry of the user.
func (uc *UsersClient) Logout(userID string) error {
	return uc.client.cache.ClearUser(userID)
}
