package repository

import "errors"

var ErrProductNotFound = errors.New("product not found")
var ErrInsufficientStock = errors.New("insufficient stock")
var ErrOrderNotFound = errors.New("order not found")
var ErrCartItemNotFound = errors.New("cart item not found")
