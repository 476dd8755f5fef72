package server

// commandHandler binds a command token to its implementation.
type commandHandler struct {
	fn func(*session, string)

	// needsAuth makes the dispatcher answer 530 until the client logs in.
	needsAuth bool
}

// commandHandlers maps FTP commands to their handlers. Tokens that are not
// listed here are answered with 500.
var commandHandlers = map[string]commandHandler{
	// Access control
	"USER": {fn: (*session).handleUSER},
	"PASS": {fn: (*session).handlePASS},
	"QUIT": {fn: (*session).handleQUIT, needsAuth: true},

	// Navigation
	"CWD":  {fn: (*session).handleCWD, needsAuth: true},
	"CDUP": {fn: (*session).handleCDUP, needsAuth: true},
	"PWD":  {fn: (*session).handlePWD, needsAuth: true},

	// Listing
	"LIST": {fn: (*session).handleLIST, needsAuth: true},
	"NLST": {fn: (*session).handleNLST, needsAuth: true},

	// File management
	"MKD":  {fn: (*session).handleMKD, needsAuth: true},
	"RMD":  {fn: (*session).handleRMD, needsAuth: true},
	"DELE": {fn: (*session).handleDELE, needsAuth: true},
	"RNFR": {fn: (*session).handleRNFR, needsAuth: true},
	"RNTO": {fn: (*session).handleRNTO, needsAuth: true},

	// File transfer
	"RETR": {fn: (*session).handleRETR, needsAuth: true},
	"STOR": {fn: (*session).handleSTOR, needsAuth: true},

	// Transfer parameters
	"PASV": {fn: (*session).handlePASV, needsAuth: true},
	"PORT": {fn: (*session).handlePORT, needsAuth: true},
	"TYPE": {fn: (*session).handleTYPE, needsAuth: true},

	// Information
	"SIZE": {fn: (*session).handleSIZE, needsAuth: true},
	"MDTM": {fn: (*session).handleMDTM, needsAuth: true},
	"SYST": {fn: (*session).handleSYST, needsAuth: true},
	"NOOP": {fn: (*session).handleNOOP, needsAuth: true},
}
