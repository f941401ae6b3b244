package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// UserCursor is the opaque pagination cursor for the admin user listing.
// The listing keys on id alone, so that is all the cursor carries.
type UserCursor struct {
	ID int64 `json:"id"`
}

func EncodeUserCursor(id int64) (string, error) {
	b, err := json.Marshal(UserCursor{ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeUserCursor(cursor string) (UserCursor, error) {
	if cursor == "" {
		return UserCursor{}, errors.New("empty cursor")
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return UserCursor{}, err
	}

	var c UserCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return UserCursor{}, err
	}
	if c.ID <= 0 {
		return UserCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}
