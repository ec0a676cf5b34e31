package solast_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zheng/argus/internal/astfix"
	"github.com/zheng/argus/internal/solast"
)

func TestParseSrc(t *testing.T) {
	tests := []struct {
		in    string
		want  solast.SrcLocation
		valid bool
	}{
		{"10:5:0", solast.SrcLocation{Start: 10, Length: 5, File: 0}, true},
		{"0:0:3", solast.SrcLocation{Start: 0, Length: 0, File: 3}, true},
		{"", solast.SrcLocation{Start: -1, File: -1}, false},
		{"1:2", solast.SrcLocation{Start: -1, File: -1}, false},
		{"a:b:c", solast.SrcLocation{Start: -1, File: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := solast.ParseSrc(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.valid, got.Valid())
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		_, err := solast.Decode([]byte(`{`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, solast.ErrMalformedNode))
	})

	t.Run("missing nodeType", func(t *testing.T) {
		_, err := solast.Decode([]byte(`{"id": 1}`))
		assert.ErrorIs(t, err, solast.ErrMalformedNode)
	})

	t.Run("root is not a source unit", func(t *testing.T) {
		_, err := solast.DecodeSourceUnit([]byte(`{"id": 1, "nodeType": "Block", "src": "0:0:0", "statements": []}`))
		assert.ErrorIs(t, err, solast.ErrMalformedNode)
	})

	t.Run("wrong child kind", func(t *testing.T) {
		_, err := solast.Decode([]byte(`{"id": 1, "nodeType": "EnumDefinition", "name": "E", "members": [{"id": 2, "nodeType": "Block"}]}`))
		assert.ErrorIs(t, err, solast.ErrMalformedNode)
	})
}

func vaultFixture() *astfix.Gen {
	g := astfix.New()
	u := g.Unit("src/Vault.sol")
	v := u.Contract("Vault")
	v.Event("Deposited", "address", "uint256")
	v.Func("deposit", "payable", "external").Doc("Deposit ether.")
	v.Func("balanceOf", "view", "external").Params("address")
	tr := v.Func("_transfer", "nonpayable", "internal").Params("address", "uint256")
	v.Func("withdraw", "nonpayable", "external").Params("uint256").Calls(tr).Casts(v)
	return g
}

func TestDecodeSourceUnit_Fixture(t *testing.T) {
	g := vaultFixture()
	unit, err := solast.DecodeSourceUnit(g.UnitAST("src/Vault.sol"))
	require.NoError(t, err)

	assert.Equal(t, "src/Vault.sol", unit.AbsolutePath)
	contracts := unit.Contracts()
	require.Len(t, contracts, 1)

	vault := contracts[0]
	assert.Equal(t, "Vault", vault.Name)
	assert.Equal(t, solast.KindContract, vault.ContractKind)
	assert.True(t, vault.FullyImplemented)
	assert.Equal(t, []int64{vault.ID()}, vault.LinearizedBaseContracts)

	fns := vault.Functions()
	require.Len(t, fns, 4)
	assert.Equal(t, "deposit", fns[0].Name)
	assert.Equal(t, "payable", fns[0].StateMutability)
	assert.Equal(t, "Deposit ether.", fns[0].Documentation)
	assert.Equal(t, "balanceOf(address)", fns[1].Signature())
	assert.Equal(t, "_transfer(address,uint256)", fns[2].Signature())
	assert.True(t, fns[3].Implemented)
	require.NotNil(t, fns[3].Body)

	var calls []*solast.FunctionCall
	solast.Walk(fns[3].Body, func(n solast.Node) bool {
		if c, ok := n.(*solast.FunctionCall); ok {
			calls = append(calls, c)
		}
		return true
	})
	// withdraw: _transfer(), Vault(address(0)), and the nested address(0)
	require.Len(t, calls, 3)
	assert.Equal(t, solast.CallKindFunctionCall, calls[0].Kind)
	ident, ok := calls[0].Expression.(*solast.Identifier)
	require.True(t, ok)
	assert.Equal(t, "_transfer", ident.Name)
	assert.Equal(t, fns[2].ID(), ident.ReferencedDeclaration)
	assert.Equal(t, solast.CallKindTypeConversion, calls[1].Kind)
}

func TestDecode_GenericChildrenOrdered(t *testing.T) {
	data := []byte(`{
		"id": 9, "nodeType": "IfStatement", "src": "0:40:0",
		"trueBody": {"id": 11, "nodeType": "Block", "src": "20:5:0", "statements": []},
		"condition": {"id": 10, "nodeType": "Identifier", "src": "4:1:0", "name": "ok", "referencedDeclaration": 3},
		"falseBody": null,
		"documentation": "ignored"
	}`)
	n, err := solast.Decode(data)
	require.NoError(t, err)

	g, ok := n.(*solast.Generic)
	require.True(t, ok)
	assert.Equal(t, solast.NodeType("IfStatement"), g.Type())
	require.Len(t, g.Children(), 2)
	assert.Equal(t, int64(10), g.Children()[0].ID())
	assert.Equal(t, int64(11), g.Children()[1].ID())
}

func TestDecode_MissingReference(t *testing.T) {
	n, err := solast.Decode([]byte(`{"id": 4, "nodeType": "Identifier", "src": "0:3:0", "name": "foo"}`))
	require.NoError(t, err)
	assert.Equal(t, solast.NoDeclaration, n.(*solast.Identifier).ReferencedDeclaration)
}

func TestWalk_Prune(t *testing.T) {
	unit, err := solast.DecodeSourceUnit(vaultFixture().UnitAST("src/Vault.sol"))
	require.NoError(t, err)

	var seen int
	solast.Walk(unit, func(n solast.Node) bool {
		seen++
		_, isContract := n.(*solast.ContractDefinition)
		return !isContract
	})
	assert.Equal(t, 2, seen)

	found := solast.Find(unit, func(n solast.Node) bool {
		f, ok := n.(*solast.FunctionDefinition)
		return ok && f.Name == "withdraw"
	})
	require.NotNil(t, found)
	assert.Equal(t, solast.TypeFunctionDefinition, found.Type())
}

func TestDecode_ContractMemberErrorIsLocal(t *testing.T) {
	data := []byte(`{
		"id": 1, "nodeType": "SourceUnit", "src": "0:200:0", "absolutePath": "src/Two.sol",
		"nodes": [
			{"id": 2, "nodeType": "ContractDefinition", "src": "0:90:0", "name": "Good",
			 "contractKind": "contract", "abstract": false, "fullyImplemented": true,
			 "baseContracts": [], "linearizedBaseContracts": [2],
			 "nodes": [{"id": 3, "nodeType": "FunctionDefinition", "src": "20:60:0", "name": "run",
			            "kind": "function", "stateMutability": "nonpayable", "visibility": "external",
			            "implemented": true, "parameters": {"id": 4, "nodeType": "ParameterList", "parameters": []},
			            "modifiers": [], "body": {"id": 5, "nodeType": "Block", "src": "70:2:0", "statements": []}}]},
			{"id": 6, "nodeType": "ContractDefinition", "src": "100:90:0", "name": "Bad",
			 "contractKind": "contract", "abstract": false, "fullyImplemented": true,
			 "baseContracts": [], "linearizedBaseContracts": [6],
			 "nodes": [
				{"id": 7, "nodeType": "FunctionDefinition", "src": "120:30:0", "name": "broken",
				 "kind": "function", "visibility": "external", "modifiers": "unexpected"},
				{"id": 8, "nodeType": "EventDefinition", "src": "160:20:0", "name": "Ok",
				 "parameters": {"id": 9, "nodeType": "ParameterList", "parameters": []}}
			 ]}
		]
	}`)
	unit, err := solast.DecodeSourceUnit(data)
	require.NoError(t, err)

	contracts := unit.Contracts()
	require.Len(t, contracts, 2)
	good, bad := contracts[0], contracts[1]

	assert.NoError(t, good.DecodeErr)
	require.Len(t, good.Functions(), 1)

	require.Error(t, bad.DecodeErr)
	assert.ErrorIs(t, bad.DecodeErr, solast.ErrMalformedNode)
	assert.Contains(t, bad.DecodeErr.Error(), "FunctionDefinition 7")
	assert.Empty(t, bad.Functions())
	// members that decoded are kept
	require.Len(t, bad.Nodes, 1)
	assert.Equal(t, solast.TypeEventDefinition, bad.Nodes[0].Type())
}

func TestDecode_SourceUnitErrorStillFails(t *testing.T) {
	_, err := solast.DecodeSourceUnit([]byte(`{"id": 1, "nodeType": "SourceUnit", "src": "0:0:0", "nodes": "bad"}`))
	assert.ErrorIs(t, err, solast.ErrMalformedNode)
}
