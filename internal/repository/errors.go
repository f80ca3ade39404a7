package repository

import "errors"

// ErrUserNotFound возвращается, если пользователь не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrNotProductOwner возвращается при попытке изменить цену чужого товара.
	ErrNotProductOwner = errors.New("only the owner agent can update price")
)
