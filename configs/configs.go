package configs

import _ "embed"

// Catalog はショップのアイテムと背景（環境）の定義です。
//
//go:embed catalog.yaml
var Catalog []byte

// Prompts はコンセプト生成用のフォールバックお題です。
//
//go:embed prompts.yaml
var Prompts []byte
