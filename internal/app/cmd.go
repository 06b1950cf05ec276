package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandRefresh はリモートから1ページ目を取得してキャッシュを更新し、終了することを示す。
	CommandRefresh Command = "refresh"
	// CommandMigrate はキャッシュデータベースのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandClearCache はキャッシュ済みの記事をすべて削除することを示す。
	CommandClearCache Command = "clear-cache"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "refresh":
		return CommandRefresh
	case "migrate":
		return CommandMigrate
	case "clear-cache":
		return CommandClearCache
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
