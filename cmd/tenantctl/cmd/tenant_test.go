package cmd

import "testing"

func TestCommandTree(t *testing.T) {
	want := map[string]bool{"migrate": false, "bootstrap": false, "tenant": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing command %q", name)
		}
	}
}

func TestDiscardArgs(t *testing.T) {
	if err := tenantDiscardCmd.Args(tenantDiscardCmd, nil); err == nil {
		t.Fatalf("expected error without tenant id")
	}
	if err := tenantDiscardCmd.Args(tenantDiscardCmd, []string{"t-1", "t-2"}); err == nil {
		t.Fatalf("expected error with two ids")
	}
	if err := tenantDiscardCmd.Args(tenantDiscardCmd, []string{"t-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTenantCommandsRequireCaller(t *testing.T) {
	f := tenantCmd.PersistentFlags().Lookup("as")
	if f == nil {
		t.Fatalf("missing --as flag")
	}
	if _, ok := f.Annotations["cobra_annotation_bash_completion_one_required_flag"]; !ok {
		t.Fatalf("--as must be required")
	}
}

func TestCreateDefaults(t *testing.T) {
	typ, err := tenantCreateCmd.Flags().GetString("type")
	if err != nil || typ != "regular" {
		t.Fatalf("expected regular default, got %q %v", typ, err)
	}
}
