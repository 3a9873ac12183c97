package pyexec

import "testing"

func TestFormatReport(t *testing.T) {
	tests := []struct {
		name                   string
		depLog, stdout, stderr string
		want                   string
	}{
		{"all empty", "", "", "", MsgNoOutput},
		{"output only", "", "hi\n", "", "Output:\nhi\n\n"},
		{"error only", "", "", "boom", "Error:\nboom\n"},
		{
			name:   "all sections",
			depLog: "Installing packages: numpy\nSuccessfully installed numpy",
			stdout: "1",
			stderr: "warn",
			want:   "Dependency installation:\nInstalling packages: numpy\nSuccessfully installed numpy\n\nOutput:\n1\nError:\nwarn\n",
		},
		{
			name:   "log without output",
			depLog: "Network access is disabled; cannot install packages",
			want:   "Dependency installation:\nNetwork access is disabled; cannot install packages\n\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatReport(tt.depLog, tt.stdout, tt.stderr); got != tt.want {
				t.Errorf("FormatReport = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReport_String(t *testing.T) {
	var nilReport *Report
	if nilReport.String() != "" {
		t.Error("nil report should render empty")
	}
	if (&Report{Text: "x"}).String() != "x" {
		t.Error("String should return Text")
	}
}
