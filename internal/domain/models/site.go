// internal/domain/models/site.go
package models

// DefaultSiteName is shown in the page header and title.
const DefaultSiteName = "RollChart"
