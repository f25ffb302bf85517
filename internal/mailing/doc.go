// Package mailing renders tracked emails and hands them to a mail
// transport. Every rendered message carries an open pixel and a click link
// that point back at the tracking endpoints for its email id.
package mailing
