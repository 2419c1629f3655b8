package domain

import (
	"net/mail"
	"time"
)

// User is the account a transaction belongs to. Region and age feed the
// user.region and user.age rule fields.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	Region    *string   `json:"region,omitempty"`
	Age       *int      `json:"age,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserRequest is the API payload for creating a user.
type UserRequest struct {
	Email    string  `json:"email"`
	FullName string  `json:"fullName"`
	Region   *string `json:"region,omitempty"`
	Age      *int    `json:"age,omitempty"`
	IsActive *bool   `json:"isActive,omitempty"`
}

// Validate checks field constraints.
func (r *UserRequest) Validate() error {
	var errs ValidationErrors
	if len(r.Email) == 0 || len(r.Email) > 254 {
		errs.Add("email", "must be between 1 and 254 characters")
	} else if _, err := mail.ParseAddress(r.Email); err != nil {
		errs.Add("email", "must be a valid email address")
	}
	if n := len([]rune(r.FullName)); n < 2 || n > 200 {
		errs.Add("fullName", "must be between 2 and 200 characters")
	}
	if r.Region != nil && len(*r.Region) > 32 {
		errs.Add("region", "must be at most 32 characters")
	}
	if r.Age != nil && (*r.Age < 18 || *r.Age > 120) {
		errs.Add("age", "must be between 18 and 120")
	}
	return errs.Err()
}

// ToUser converts a request to a User domain object.
func (r *UserRequest) ToUser() *User {
	now := time.Now().UTC()
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return &User{
		Email:     r.Email,
		FullName:  r.FullName,
		Region:    r.Region,
		Age:       r.Age,
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
