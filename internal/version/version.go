package version

// Version is the current release of bookmark-sift
var Version = "0.3.0"
