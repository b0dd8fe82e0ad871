package config

import "strings"

// keyDoc describes one recognized configuration key for the --gentex
// flag: key name, default, and a one-line description.
type keyDoc struct {
	name    string
	def     string
	comment string
}

// keyDocs is the recognized configuration surface.
var keyDocs = []keyDoc{
	{"Asterisk.address", "127.0.0.1:5060", "registration/HLR target"},
	{"Bounce.Code", "911", "short code a bounce message appears to come from"},
	{"Bounce.Message.IMSILookupFailed", "Message undeliverable: unknown subscriber.", "bounce body, subscriber has no IMSI"},
	{"Bounce.Message.NotRegistered", "Message undeliverable: phone not registered.", "bounce body, subscriber never registered"},
	{"CDRFile", "./smqueue.cdr", "optional CDR sink path"},
	{"savefile", "./smqueue.save", "queue persistence path"},
	{"SC.RegisterCode", "101", "registration short code"},
	{"SC.DirectoryCode", "411", "directory-assistance short code"},
	{"SIP.Default.BTSPort", "5062", "fallback base-station destination port"},
	{"SIP.GlobalRelay.IP", "", "optional upstream relay address"},
	{"SIP.GlobalRelay.Port", "0", "upstream relay port"},
	{"SIP.GlobalRelay.ContentType", "", "content-type to transcode outbound-to-relay bodies into"},
	{"SIP.GlobalRelay.RelaxedVerify", "false", "match any Via header for early-resolution, not just the source address"},
	{"SIP.Timeout.ACKedMessageResend", "60", "seconds before a 1xx-acked message is retried"},
	{"SIP.Timeout.MessageBounce", "3600", "seconds before giving up and bouncing"},
	{"SIP.Timeout.MessageResend", "30", "seconds between unacked retries"},
	{"SIP.myPort", "5063", "our listen port"},
	{"SMS.MaxRetries", "5", "delivery attempts before dropping an entry"},
	{"SMS.RateLimit", "0", "minimum ms between two sends, 0 = unlimited"},
	{"SubscriberRegistry.db", "./subscribers.db", "directory backend"},
	{"Debug.print_as_we_validate", "false", "verbose validation trace"},
}

// KeysAsTeX renders the recognized configuration surface as a TeX
// longtable, for the --gentex flag.
func KeysAsTeX() string {
	var b strings.Builder
	b.WriteString("\\begin{longtable}{|l|l|p{3in}|}\n\\hline\n")
	b.WriteString("Key & Default & Description \\\\\n\\hline\n")
	for _, k := range keyDocs {
		b.WriteString(texEscape(k.name))
		b.WriteString(" & ")
		b.WriteString(texEscape(k.def))
		b.WriteString(" & ")
		b.WriteString(texEscape(k.comment))
		b.WriteString(" \\\\\n\\hline\n")
	}
	b.WriteString("\\end{longtable}\n")
	return b.String()
}

func texEscape(s string) string {
	r := strings.NewReplacer("_", "\\_", "&", "\\&", "%", "\\%", "#", "\\#")
	return r.Replace(s)
}
