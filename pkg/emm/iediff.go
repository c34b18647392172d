package emm

import "github.com/protei/emmkpi/pkg/event"

// Fingerprint is a mandatory-IE fingerprint: a mapping from selected
// field key to that field's Showname.
type Fingerprint map[string]string

// Equal reports whether two fingerprints have identical key sets and
// corresponding values.
func (fp Fingerprint) Equal(other Fingerprint) bool {
	if len(fp) != len(other) {
		return false
	}
	for k, v := range fp {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// fingerprint builds a Fingerprint by selecting byName fields (matched
// on Field.Name) and byShow fields (matched on Field.Show) from the
// given request payload, recording each field's Showname. A field
// absent from the payload is simply omitted.
func fingerprint(payload *event.Field, byName, byShow []string) Fingerprint {
	fp := make(Fingerprint, len(byName)+len(byShow))
	for _, name := range byName {
		if f := payload.FindByName(name); f != nil {
			fp[name] = f.Showname
		}
	}
	for _, show := range byShow {
		if f := payload.FindByShow(show); f != nil {
			fp[show] = f.Showname
		}
	}
	return fp
}

// AttachFingerprintFields is the mandatory-IE selector set for Attach
// requests.
var AttachFingerprintFields = []string{
	"gsm_a.L3_protocol_discriminator",
	"nas_eps.security_header_type",
	"nas_eps.nas_msg_emm_type",
	"nas_eps.emm.eps_att_type",
	"nas_eps.emm.nas_key_set_id",
	"nas_eps.emm.type_of_id",
	"nas_eps.emm.esm_msg_cont",
}

// AttachFingerprint builds the Attach-request fingerprint.
func AttachFingerprint(payload *event.Field) Fingerprint {
	return fingerprint(payload, AttachFingerprintFields, nil)
}

// tauFingerprintNames and tauFingerprintShows are the mandatory-IE
// selector set for TAU requests: three named fields plus three
// show-named subtrees.
var (
	tauFingerprintNames = []string{
		"nas_eps.emm.esm_msg_cont",
		"nas_eps.emm.type_of_id",
		"gsm_a.gm.gmm.ue_usage_setting",
	}
	tauFingerprintShows = []string{
		"EPS mobile identity",
		"UE network capability",
		"DRX parameter",
	}
)

// TAUFingerprint builds the TAU-request fingerprint.
func TAUFingerprint(payload *event.Field) Fingerprint {
	return fingerprint(payload, tauFingerprintNames, tauFingerprintShows)
}
