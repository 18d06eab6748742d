package catalog

import "time"

// Problem is the immutable template for one challenge: which image to
// run and which guest ports it exposes. Visibility is the only field
// mutated during a competition round.
type Problem struct {
	ID          int64     `pg:"id,pk" json:"id"`
	Name        string    `pg:"name,notnull" json:"name"`
	Description string    `pg:"description" json:"description"`
	Author      string    `pg:"author" json:"author"`
	Image       string    `pg:"image,notnull" json:"-"`
	GuestPorts  []string  `pg:"guest_ports,array" json:"-"`
	Visible     bool      `pg:"visible,use_zero,notnull,default:false" json:"visible"`
	Points      int       `pg:"points,use_zero" json:"points"`
	MinPoints   int       `pg:"min_points,use_zero" json:"min_points"`
	MaxPoints   int       `pg:"max_points,use_zero" json:"max_points"`
	CreatedAt   time.Time `pg:"created_at,notnull,default:now()" json:"created_at"`
}

// Team is one competing team. Only the identity matters here;
// membership and authentication live outside this service.
type Team struct {
	ID   int64  `pg:"id,pk" json:"id"`
	Name string `pg:"name,notnull,unique" json:"name"`
}
