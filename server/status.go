package server

// statusText holds the canonical reply text for every code the server emits.
var statusText = map[int]string{
	125: "Data connection already open; transfer starting.",
	150: "File status okay; about to open data connection.",
	200: "Command okay.",
	215: "UNIX",
	220: "FTP Server Ready",
	226: "Closing data connection.",
	227: "Entering Passive Mode.",
	230: "User logged in, proceed.",
	250: "Requested file action okay, completed.",
	257: "Pathname created.",
	331: "User name okay, need password.",
	350: "RNFR completed, continue with RNTO.",
	421: "Too many users, sorry.",
	425: "Can't open data connection.",
	500: "Syntax error, command unrecognized.",
	501: "Syntax error in parameters or arguments.",
	502: "Command not implemented.",
	521: "Directory already exists",
	530: "Not logged in.",
	550: "Requested action not taken.",
	553: "Could not create file.",
}

// StatusText returns the canonical text for an FTP reply code. It returns
// the empty string if the code is unknown.
func StatusText(code int) string {
	return statusText[code]
}
