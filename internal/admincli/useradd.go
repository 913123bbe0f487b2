package admincli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
)

var (
	ErrEmptyEmail       = errors.New("email must not be empty")
	ErrEmptyPassword    = errors.New("password must not be empty")
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// UserCreator stores a new account with a hashed password.
type UserCreator interface {
	Create(ctx context.Context, in services.NewUser) (*models.User, error)
}

// UserAdd walks the operator through creating one account.
func UserAdd(ctx context.Context, reader *bufio.Reader, w io.Writer, users UserCreator) (*models.User, error) {
	email, err := GetSimpleText(reader, "Email", w)
	if err != nil {
		return nil, err
	}
	if email == "" {
		return nil, ErrEmptyEmail
	}

	first, err := GetSimpleText(reader, "First name", w)
	if err != nil {
		return nil, err
	}
	last, err := GetSimpleText(reader, "Last name", w)
	if err != nil {
		return nil, err
	}

	password, err := GetPassword(w, "Password")
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(password)
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}

	confirm, err := GetPassword(w, "Repeat password")
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(confirm)
	if !bytes.Equal(password, confirm) {
		return nil, ErrPasswordMismatch
	}

	superAdmin, err := GetYesNo(reader, "Super admin?", w)
	if err != nil {
		return nil, err
	}

	u, err := users.Create(ctx, services.NewUser{
		FirstName:  first,
		LastName:   last,
		Email:      email,
		Password:   string(password),
		SuperAdmin: superAdmin,
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(w, "Created user %d (%s, %s)\n", u.ID, u.Email, u.Role())
	return u, nil
}
