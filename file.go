package main

//go:generate go run github.com/abice/go-enum --file=$GOFILE --names --nocase

// ChannelKind represents the notification category a channel is registered for
// ENUM(merchants,islands,alerts)
type ChannelKind string

// FilterOp represents a comparison operator in the record store filter language
// ENUM(eq,ne,is_null,not_null,in)
type FilterOp string
