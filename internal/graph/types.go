package graph

import "time"

// ChildCountUnknown indicates the child count was not present in the API response.
const ChildCountUnknown = -1

// Item represents a OneDrive drive item (file, folder, or package).
// Fields are normalized from the Graph API response; callers never see raw API data.
type Item struct {
	ID            string
	Name          string
	DriveID       string
	ParentID      string
	Size          int64
	ETag          string
	IsFolder      bool
	IsPackage     bool // OneNote notebooks and similar compound items
	MimeType      string
	CreatedAt     time.Time
	ModifiedAt    time.Time
	ChildCount    int    // ChildCountUnknown if not present
	WebURL        string // browser link, surfaced as the open path
	CreatedByID   string
	CreatedByName string
	DownloadURL   string // pre-authenticated, ephemeral; NEVER log
}

// User is the signed-in account.
type User struct {
	ID          string
	DisplayName string
	Email       string
}

// UploadSession is a resumable upload target. UploadURL is
// pre-authenticated; NEVER log it.
type UploadSession struct {
	UploadURL      string
	ExpirationTime time.Time
}
