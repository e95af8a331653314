package simserver

// Version is overridden at build time with -ldflags "-X github.com/a-h/simserver.Version=...".
var Version = "devel"
