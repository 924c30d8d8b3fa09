// Package endpoint derives the channel URL a hub connects to.
//
// Resolution is pure: given the same base URL and page it always returns the
// same string.
//
//	Resolve("https://api.example.com", Page{})                    // wss://api.example.com/ws
//	Resolve("", Page{Secure: true, Host: "app.example.com"})      // wss://app.example.com/ws
//	Resolve("", Page{})                                           // ws://localhost:5000/ws
package endpoint
