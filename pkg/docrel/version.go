package docrel

// Version is the docrel release.
const Version = "0.1.0"
