package rules

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	g := DefaultGrammar()

	r, err := Compile("IXP_IP-!AS_M : a", g)
	require.NoError(t, err)
	require.Equal(t, A, r.Assessment)
	require.Len(t, r.Clauses, 2)
	require.Equal(t, []Term{{Keyword: IXPIP, Ref: -1}}, r.Clauses[0].Terms)
	require.Equal(t, []Term{{Keyword: Membership, Negated: true, Ref: -1}}, r.Clauses[1].Terms)
	require.Equal(t, -1, r.RemotePeer)
	require.Equal(t, "IXP_IP-!AS_M : a", r.String())

	r, err = Compile("AS_M1 - ( IXP_IP and !AS_M2 ) - AS_M1 : aorb  # comment", g)
	require.NoError(t, err)
	require.Equal(t, AOrB, r.Assessment)
	require.Equal(t, []Term{{Keyword: IXPIP, Ref: -1}, {Keyword: Membership, Negated: true, Ref: 2}}, r.Clauses[1].Terms)
	require.Equal(t, "AS_M1-(IXP_IPand!AS_M2)-AS_M1", r.Condition())
}

func TestCompileRemotePeeringRule(t *testing.T) {
	r, err := Compile("AS_M0-(IXP_IPandAS_M1)-AS_M1 : a", DefaultGrammar())
	require.NoError(t, err)
	require.Equal(t, 0, r.RemotePeer)
}

func TestCompileRejects(t *testing.T) {
	tests := []struct {
		rule   string
		reason string
	}{
		{"AS_M-AS_M-AS_M-AS_M : a", "maximum rule length"},
		{"IXP_IP-AS_M-IXP_IP-AS_M : a", "maximum rule length"},
		{"IXP_IP : a", "minimum rule length"},
		{"AS_M-!AS_M : a", "expected an IXP_IP"},
		{"(IXP_IPandAS_M-AS_M : a", "expected ')'"},
		{"IXP_IPandAS_M)-AS_M : a", "expected one '('"},
		{"(IXP_IP)-AS_M : a", "delimiter"},
		{"((IXP_IPandAS_M))-AS_M : a", "only one '('"},
		{"IXP_IPandAS_M-AS_M : a", "parentheses"},
		{"(IXP_IPandAS_MandAS_M)-AS_M : a", "at most two terms"},
		{"(AS_MandAS_M)-IXP_IP : a", "joined with"},
		{"IXP_IP-AS_X : a", "wrong syntax"},
		{"IXP_IP-AS_M : c", "valid assessment"},
		{"IXP_IP-AS_M", "one condition and one assessment"},
		{"IXP_IP-AS_M : a : b", "one condition and one assessment"},
		{"IXP_IP12-AS_M : a", "wrong syntax"},
	}
	for _, tt := range tests {
		_, err := Compile(tt.rule, DefaultGrammar())
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Errorf("Compile(%q) error = %v; want *SyntaxError", tt.rule, err)
			continue
		}
		if !strings.Contains(se.Reason, tt.reason) {
			t.Errorf("Compile(%q) reason = %q; want it to mention %q", tt.rule, se.Reason, tt.reason)
		}
	}
}

func TestLoadSkipsRejectedRules(t *testing.T) {
	input := `# header
IXP_IP-!AS_M : a

AS_M-AS_M-AS_M-AS_M : a
AS_M-(IXP_IPandAS_M)-AS_M : b
(IXP_IPandAS_M-AS_M : a
AS_M-AS_M : a
IXP_IP-AS_M : ?
`
	rs, errs := Load(strings.NewReader(input), DefaultGrammar())
	require.Len(t, rs, 3)
	require.Len(t, errs, 3)

	require.Equal(t, 0, rs[0].Index)
	require.Equal(t, 2, rs[0].Line)
	require.Equal(t, 1, rs[1].Index)
	require.Equal(t, 5, rs[1].Line)
	require.Equal(t, Possible, rs[2].Assessment)

	var se *SyntaxError
	require.ErrorAs(t, errs[0], &se)
	require.Equal(t, 4, se.Line)
	require.Contains(t, se.Error(), "line 4")
}

func TestLoadGrammar(t *testing.T) {
	g, err := LoadGrammar(
		strings.NewReader("# keywords\nIXP_IP\nAS_M\n!AS_M\n*\n"),
		strings.NewReader("# delimiters\nand,&\n"))
	require.NoError(t, err)
	require.Equal(t, []string{IXPIP, Membership, "!AS_M", NoReply}, g.Keywords)
	require.Equal(t, []string{"and", "&"}, g.Delimiters)

	r, err := Compile("(IXP_IP&AS_M)-*-AS_M : b", g)
	require.NoError(t, err)
	require.Len(t, r.Clauses[0].Terms, 2)
	_, ok := r.Clauses[1].Has(NoReply)
	require.True(t, ok)

	_, err = LoadGrammar(strings.NewReader("IXP_IP\n"), strings.NewReader("and\nor\n"))
	require.Error(t, err)
	_, err = LoadGrammar(strings.NewReader("# nothing\n"), strings.NewReader("and\n"))
	require.Error(t, err)
}

func TestLoadFilesDefaults(t *testing.T) {
	rs, errs, err := LoadFiles(Files{})
	require.NoError(t, err)
	require.Empty(t, errs)
	require.NotEmpty(t, rs)

	remote := 0
	for _, r := range rs {
		if r.RemotePeer >= 0 {
			remote++
		}
	}
	require.Equal(t, 1, remote)
}
