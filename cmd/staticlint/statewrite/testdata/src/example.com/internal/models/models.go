package models

type State string

type Negotiation struct {
	ID    string
	State State
}

type Other struct {
	State State
}
